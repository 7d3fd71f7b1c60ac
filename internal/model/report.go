package model

// Report 用户举报记录
type Report struct {
	ID         string `json:"id"`
	ReporterID string `json:"reporterId"`
	ReportedID string `json:"reportedId"`
	Reason     string `json:"reason"`
	CreatedAt  int64  `json:"createdAt"`
}
