// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// PostIngestTask represents one labeled post to be featurized and appended
// to the training corpus by the background consumer.
type PostIngestTask struct {
	PostID      string `json:"post_id"`
	PostText    string `json:"post_text"`
	ImageObject string `json:"image_object"`
	Label       int    `json:"label"`
}
