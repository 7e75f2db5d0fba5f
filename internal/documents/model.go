package documents

import "time"

// File types accepted by the upload surface.
const (
	FileTypeText = "text"
	FileTypePDF  = "pdf"
)

// Document models an uploaded document and its extracted text content.
// AnnotationCount is a cached counter owned by the annotation ledger; nothing
// in this package writes it.
type Document struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Filename        string    `gorm:"column:filename;size:320;not null" json:"filename"`
	OriginalName    string    `gorm:"column:original_name;size:320;not null" json:"originalName"`
	FileType        string    `gorm:"column:file_type;size:16;not null" json:"fileType"`
	Content         string    `gorm:"column:content;type:text;not null" json:"content"`
	UploadedBy      string    `gorm:"column:uploaded_by;size:190;not null;index:idx_documents_uploader" json:"uploadedBy"`
	AnnotationCount int64     `gorm:"column:annotation_count;not null;default:0" json:"annotationCount"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Summary is the listing projection of a document, without its content.
type Summary struct {
	ID              string    `json:"id"`
	OriginalName    string    `json:"originalName"`
	FileType        string    `json:"fileType"`
	UploadedBy      string    `json:"uploadedBy"`
	UploaderName    string    `json:"uploaderName"`
	AnnotationCount int64     `json:"annotationCount"`
	CreatedAt       time.Time `json:"createdAt"`
}
