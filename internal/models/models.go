package models

// GazeInfo is a normalized gaze point attached to a frame
type GazeInfo struct {
	GazeX float64 `json:"gaze_x"`
	GazeY float64 `json:"gaze_y"`
}

// Narration is one annotated keyframe of a video
type Narration struct {
	TimestampSec   float64   `json:"timestamp_sec,omitempty"`
	TimestampFrame int       `json:"timestamp_frame"`
	Description    string    `json:"description,omitempty"`
	NarrationText  string    `json:"narration_text,omitempty"`
	GazeInfo       *GazeInfo `json:"gaze_info,omitempty"`
	ImagePath      string    `json:"image_path,omitempty"`
}

// Text returns the caption of the narration, whichever field carries it
func (n Narration) Text() string {
	if n.NarrationText != "" {
		return n.NarrationText
	}
	return n.Description
}

// TakeAnnotation is the per-video output of the dataset builder
type TakeAnnotation struct {
	TakeName   string      `json:"take_name"`
	Scenario   string      `json:"scenario"`
	Narrations []Narration `json:"narrations"`
}

// QAItem is one multiple-choice benchmark question
type QAItem struct {
	VideoID       string   `json:"video_id"`
	GroupID       []string `json:"group_id"`
	Question      string   `json:"question"`
	AnswerOptions []string `json:"answer_options"`
	CorrectAnswer string   `json:"correct_answer"`
	ClipName      string   `json:"clip_name,omitempty"`
}

// GenerationEntry is the raw record of a single generation call
type GenerationEntry struct {
	CurrentGroup      int      `json:"current_group"`
	GroupID           []string `json:"group_id"`
	Caption           string   `json:"caption"`
	CompletionContent string   `json:"completion_content"`
}

// ClipItem is a QA item bound to a cut video clip
type ClipItem struct {
	ClipName      string   `json:"clip_name"`
	ClipPath      string   `json:"clip_path"`
	Frames        []string `json:"frames"`
	Question      string   `json:"question"`
	AnswerOptions []string `json:"answer_options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// WorkItem represents a question to be evaluated
type WorkItem struct {
	Item  QAItem
	Num   int
	Total int
}

// EvalResult represents the model's answer to one question
type EvalResult struct {
	VideoID         string `json:"video_id"`
	ClipName        string `json:"clip_name,omitempty"`
	Question        string `json:"question"`
	AnswerOptions   string `json:"answer_options"`
	ModelAnswer     string `json:"model_answer"`
	ReferenceAnswer string `json:"reference_answer"`
}

// SimilarTrajectory is a stored salience map close to a query map
type SimilarTrajectory struct {
	VideoID    string
	GroupKey   string
	Question   string
	Similarity float64
}
