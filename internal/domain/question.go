package domain

import "time"

// Link is a supporting resource returned with an answer.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// QuestionRecord is the audit entry written once per inbound question.
type QuestionRecord struct {
	ID           int64     `json:"id"            db:"id"`
	Question     string    `json:"question"      db:"question"`
	Answer       *string   `json:"answer"        db:"answer"`
	Links        []Link    `json:"links"         db:"links"` // nil when the request failed
	HasImage     bool      `json:"hasImage"      db:"has_image"`
	ResponseTime float64   `json:"responseTime"  db:"response_time"` // seconds
	Success      bool      `json:"success"       db:"success"`
	ErrorMessage *string   `json:"errorMessage"  db:"error_message"`
	CreatedAt    time.Time `json:"createdAt"     db:"created_at"`
}

// QuestionMetrics aggregates the question log.
type QuestionMetrics struct {
	TotalQuestions      int     `json:"totalQuestions"`
	SuccessfulQuestions int     `json:"successfulQuestions"`
	SuccessRate         float64 `json:"successRate"`
	AvgResponseTime     float64 `json:"avgResponseTime"`
	QuestionsToday      int     `json:"questionsToday"`
}

// Answer is the public response of the question endpoint.
type Answer struct {
	Answer string `json:"answer"`
	Links  []Link `json:"links"`
}
