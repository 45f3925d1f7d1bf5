package postgres

import "time"

// LLMAnswer is the GORM model backing modelcache_llm_answer.
type LLMAnswer struct {
	Question      string `gorm:"type:text;not null"`
	Answer        string `gorm:"type:text;not null"`
	Model         string `gorm:"type:varchar(128);index:idx_llm_answer_model;index:idx_llm_answer_model_deleted,priority:1;not null"`
	EmbeddingData []byte `gorm:"type:bytea"`
	GmtCreate     time.Time `gorm:"autoCreateTime;not null"`
	GmtModified   time.Time `gorm:"autoUpdateTime;not null"`
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	AnswerType    int       `gorm:"default:0"`
	HitCount      int64     `gorm:"default:0"`
	IsDeleted     bool      `gorm:"default:false;index:idx_llm_answer_deleted;index:idx_llm_answer_model_deleted,priority:2"`
}

func (LLMAnswer) TableName() string { return "modelcache_llm_answer" }

// QueryLog is the GORM model backing modelcache_query_log.
type QueryLog struct {
	ErrorDesc   string    `gorm:"type:text"`
	Model       string    `gorm:"type:varchar(128);index:idx_query_log_model"`
	Query       string    `gorm:"type:text"`
	HitQuery    string    `gorm:"type:text"`
	Answer      string    `gorm:"type:text"`
	GmtCreate   time.Time `gorm:"autoCreateTime"`
	GmtModified time.Time `gorm:"autoUpdateTime"`
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	ErrorCode   int
	DeltaTime   float64
	CacheHit    bool
}

func (QueryLog) TableName() string { return "modelcache_query_log" }
