package models

// Message is one entry of an appointment's message log.
type Message struct {
	AuthorID   string `bson:"authorId" json:"authorId"`
	AuthorName string `bson:"authorName" json:"authorName"`
	Text       string `bson:"text" json:"text"`
	Timestamp  int64  `bson:"timestamp" json:"timestamp"`
}

const (
	FieldStatus      = "status"
	FieldMessages    = "messages"
	FieldInspectorID = "inspectorId"
	FieldRequester   = "requester"
)
