// 题库导入脚本
//
// 从 JSON 文件批量导入题目到题库。首次部署或补充题库时手动执行。
//
// 用法: go run scripts/seed_questions.go -file questions.json
package main

import (
	"encoding/json"
	"flag"
	"log"
	"mockexam_backend/internal/config"
	"mockexam_backend/internal/model"
	"mockexam_backend/pkg/database"
	"mockexam_backend/pkg/logger"
	"os"
)

type seedQuestion struct {
	Subject       string `json:"subject"`
	ChapterID     uint   `json:"chapterId"`
	ChapterName   string `json:"chapterName"`
	Text          string `json:"text"`
	OptionA       string `json:"optionA"`
	OptionB       string `json:"optionB"`
	OptionC       string `json:"optionC"`
	OptionD       string `json:"optionD"`
	CorrectOption string `json:"correctOption"`
	Difficulty    string `json:"difficulty"`
	Concept       string `json:"concept"`
}

func main() {
	file := flag.String("file", "questions.json", "题目 JSON 文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("读取题目文件失败: %v", err)
	}

	var seeds []seedQuestion
	if err := json.Unmarshal(data, &seeds); err != nil {
		log.Fatalf("解析题目文件失败: %v", err)
	}

	questions := make([]model.Question, 0, len(seeds))
	for _, s := range seeds {
		if s.CorrectOption != "A" && s.CorrectOption != "B" && s.CorrectOption != "C" && s.CorrectOption != "D" {
			log.Fatalf("题目 %q 的正确选项非法: %q", s.Text, s.CorrectOption)
		}
		questions = append(questions, model.Question{
			Subject:       s.Subject,
			ChapterID:     s.ChapterID,
			ChapterName:   s.ChapterName,
			Text:          s.Text,
			OptionA:       s.OptionA,
			OptionB:       s.OptionB,
			OptionC:       s.OptionC,
			OptionD:       s.OptionD,
			CorrectOption: s.CorrectOption,
			Difficulty:    s.Difficulty,
			Concept:       s.Concept,
		})
	}

	if len(questions) == 0 {
		log.Println("没有可导入的题目")
		return
	}

	if err := db.CreateInBatches(&questions, 200).Error; err != nil {
		log.Fatalf("导入失败: %v", err)
	}

	log.Printf("导入完成，共 %d 题", len(questions))
}
