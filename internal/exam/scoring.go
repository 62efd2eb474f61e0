package exam

// Score computes per-subject and aggregate marks plus the percentile
// estimate from a frozen answer snapshot. It is pure and repeatable apart
// from the jitter term, which is injectable through cfg.Jitter.
func Score(cfg Config, questions map[uint]Question, answers []AnswerSnapshot) *ResultSnapshot {
	stats := make(map[Subject]*SubjectStat)
	order := make([]Subject, 0, len(cfg.Distribution))
	for _, d := range cfg.Distribution {
		if _, ok := stats[d.Subject]; !ok {
			stats[d.Subject] = &SubjectStat{Subject: d.Subject}
			order = append(order, d.Subject)
		}
	}

	total := 0
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		st, ok := stats[q.Subject]
		if !ok {
			st = &SubjectStat{Subject: q.Subject}
			stats[q.Subject] = st
			order = append(order, q.Subject)
		}
		st.Total++
		total++
		switch {
		case a.Selected == nil:
			st.Unattempted++
		case *a.Selected == a.Correct:
			st.Correct++
		default:
			st.Incorrect++
		}
	}

	res := &ResultSnapshot{MaxScore: total * cfg.MarksCorrect}
	for _, subj := range order {
		st := stats[subj]
		st.Score = st.Correct*cfg.MarksCorrect - st.Incorrect*cfg.MarksIncorrect
		res.AggregateScore += st.Score
		res.Subjects = append(res.Subjects, *st)
	}

	jitter := cfg.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	if res.MaxScore > 0 {
		pct := float64(res.AggregateScore)/float64(res.MaxScore)*100 + jitter()
		res.Percentile = clamp(pct, 0, 99.9)
	}
	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
