package po

import "time"

// TranscodeJob 转码作业持久化对象
type TranscodeJob struct {
	BaseModel
	JobID            string     `gorm:"column:job_id;type:varchar(36);uniqueIndex" json:"job_id"`
	OriginalFilename string     `gorm:"column:original_filename;type:varchar(255)" json:"original_filename"`
	OriginalSize     int64      `gorm:"column:original_size;type:bigint" json:"original_size"`
	MimeType         string     `gorm:"column:mime_type;type:varchar(100)" json:"mime_type"`
	RawObjectKey     string     `gorm:"column:raw_object_key;type:varchar(512);index" json:"raw_object_key"`
	OutputPrefix     string     `gorm:"column:output_prefix;type:varchar(512)" json:"output_prefix"`
	Status           string     `gorm:"column:status;type:varchar(20);index" json:"status"`
	Stage            string     `gorm:"column:stage;type:varchar(20);index" json:"stage"`
	Progress         int        `gorm:"column:progress;type:int;default:0" json:"progress"`
	RenditionsJSON   *string    `gorm:"column:renditions_json;type:json" json:"renditions_json,omitempty"`
	Attempts         int        `gorm:"column:attempts;type:int;default:0" json:"attempts"`
	MaxAttempts      int        `gorm:"column:max_attempts;type:int;default:3" json:"max_attempts"`
	HLSMasterURL     *string    `gorm:"column:hls_master_url;type:varchar(1024)" json:"hls_master_url,omitempty"`
	ErrorMessage     *string    `gorm:"column:error_message;type:varchar(500)" json:"error_message,omitempty"`
	ErrorDetail      *string    `gorm:"column:error_detail;type:text" json:"error_detail,omitempty"`
	ErrorAt          *time.Time `gorm:"column:error_at;type:timestamp" json:"error_at,omitempty"`
	CorrelationID    string     `gorm:"column:correlation_id;type:varchar(64);index" json:"correlation_id"`
	QueuedAt         *time.Time `gorm:"column:queued_at;type:timestamp" json:"queued_at,omitempty"`
	StartedAt        *time.Time `gorm:"column:started_at;type:timestamp" json:"started_at,omitempty"`
	CompletedAt      *time.Time `gorm:"column:completed_at;type:timestamp" json:"completed_at,omitempty"`
	FailedAt         *time.Time `gorm:"column:failed_at;type:timestamp" json:"failed_at,omitempty"`
}

// TableName 指定表名
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}
