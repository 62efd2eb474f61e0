package exam

import "sort"

const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
	StrengthWeak     = "weak"
)

// AnalyzeChapters aggregates the snapshot by syllabus chapter, one entry per
// chapter touched by at least one question, independent of subject-level
// scoring.
func AnalyzeChapters(cfg Config, questions map[uint]Question, answers []AnswerSnapshot) []ChapterAnalysis {
	type acc struct {
		ChapterAnalysis
		timeSum int
	}
	byChapter := make(map[uint]*acc)

	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		ch, ok := byChapter[q.ChapterID]
		if !ok {
			ch = &acc{ChapterAnalysis: ChapterAnalysis{
				ChapterID:   q.ChapterID,
				ChapterName: q.ChapterName,
				Subject:     q.Subject,
			}}
			byChapter[q.ChapterID] = ch
		}
		ch.Total++
		ch.timeSum += a.TimeSpentSec
		switch {
		case a.Selected == nil:
			ch.Unattempted++
		case *a.Selected == a.Correct:
			ch.Correct++
		default:
			ch.Incorrect++
		}
	}

	out := make([]ChapterAnalysis, 0, len(byChapter))
	for _, ch := range byChapter {
		ch.Accuracy = float64(ch.Correct) / float64(ch.Total) * 100
		ch.AvgTimeSec = float64(ch.timeSum) / float64(ch.Total)
		switch {
		case ch.Accuracy >= cfg.StrongThreshold:
			ch.Strength = StrengthStrong
		case ch.Accuracy >= cfg.ModerateThreshold:
			ch.Strength = StrengthModerate
		default:
			ch.Strength = StrengthWeak
		}
		out = append(out, ch.ChapterAnalysis)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterID < out[j].ChapterID })
	return out
}
