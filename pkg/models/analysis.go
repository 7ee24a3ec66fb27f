package models

// PredictionError is the prediction value a model reports when it failed to
// classify the image. Such results are excluded from the consensus vote.
const PredictionError = "Error"

// ModelRoster is the fixed set of classifiers the backend runs, in display order.
var ModelRoster = []string{
	"DenseNet121+EA",
	"EfficientNet-B0+EA",
	"ResNet50+EA",
	"ViT-B/16",
	"YOLOv8x-cls",
}

// UploadCandidate is an image selected for analysis. Content is held in
// memory only for the lifetime of the session's workflow.
type UploadCandidate struct {
	Filename   string `json:"filename"`
	MediaType  string `json:"media_type"`
	Size       int64  `json:"size"`
	PreviewURL string `json:"preview_url,omitempty"`
	Content    []byte `json:"-"`
}

// ModelResult is the verdict of a single classifier.
type ModelResult struct {
	ModelName     string    `json:"model_name"`
	Prediction    string    `json:"prediction"`
	Confidence    float64   `json:"confidence"`
	Severity      Severity  `json:"severity"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

// Failed reports whether the model could not classify the image.
func (r ModelResult) Failed() bool {
	return r.Prediction == PredictionError
}

// ConsensusResult is the ensemble verdict across all classifiers.
type ConsensusResult struct {
	Prediction     string   `json:"prediction"`
	Confidence     float64  `json:"confidence"`
	Severity       Severity `json:"severity"`
	AgreementCount int      `json:"agreement_count"`
	TotalModels    int      `json:"total_models"`
	Recommendation string   `json:"recommendation"`
}

// PredictResponse is the payload of the backend's predict endpoint.
type PredictResponse struct {
	Results       []ModelResult    `json:"results"`
	Consensus     *ConsensusResult `json:"consensus,omitempty"`
	ImageFilename string           `json:"image_filename,omitempty"`
}
