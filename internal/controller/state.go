package controller

import (
	"time"

	"github.com/autsav/backgroundRemover/internal/imageprocessor"
)

// Phase names a lifecycle state.
type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhaseSelected   Phase = "selected"
	PhaseProcessing Phase = "processing"
	PhaseProcessed  Phase = "processed"
)

// Image is the user's selected source image held as a data URI.
type Image struct {
	DataURI   string `json:"data_uri"`
	MediaType string `json:"media_type"`
	Size      int    `json:"size"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// State is one of Empty, Selected, Processing or Processed. Only those types
// implement it, so a processing state without an image cannot be built.
type State interface {
	Phase() Phase
	isState()
}

type Empty struct{}

type Selected struct {
	Image Image
}

type Processing struct {
	Image Image
	Since time.Time
}

type Processed struct {
	Image  Image
	Result imageprocessor.Result
}

func (Empty) Phase() Phase      { return PhaseEmpty }
func (Selected) Phase() Phase   { return PhaseSelected }
func (Processing) Phase() Phase { return PhaseProcessing }
func (Processed) Phase() Phase  { return PhaseProcessed }

func (Empty) isState()      {}
func (Selected) isState()   {}
func (Processing) isState() {}
func (Processed) isState()  {}

// URL is the processed image location.
func (p Processed) URL() string {
	return p.Result.Image.URL
}

// selectedImage returns the source image of any non-empty state.
func selectedImage(s State) (Image, bool) {
	switch st := s.(type) {
	case Selected:
		return st.Image, true
	case Processing:
		return st.Image, true
	case Processed:
		return st.Image, true
	default:
		return Image{}, false
	}
}

// View flattens a state into the flags a page template renders.
type View struct {
	Phase          Phase  `json:"phase"`
	SelectedImage  string `json:"selected_image,omitempty"`
	ProcessedImage string `json:"processed_image,omitempty"`
	IsProcessing   bool   `json:"is_processing"`
	IsFullScreen   bool   `json:"is_full_screen"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	OutputWidth    int    `json:"output_width,omitempty"`
	OutputHeight   int    `json:"output_height,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CanProcess reports whether the Process action is enabled.
func (v View) CanProcess() bool {
	return v.SelectedImage != "" && !v.IsProcessing
}

func buildView(s State, fullScreen bool, lastErr error) View {
	v := View{Phase: s.Phase(), IsFullScreen: fullScreen}
	if img, ok := selectedImage(s); ok {
		v.SelectedImage = img.DataURI
		v.Width, v.Height = img.Width, img.Height
	}
	switch st := s.(type) {
	case Processing:
		v.IsProcessing = true
	case Processed:
		v.ProcessedImage = st.URL()
		v.OutputWidth, v.OutputHeight = st.Result.Image.Width, st.Result.Image.Height
	}
	if lastErr != nil {
		v.Error = lastErr.Error()
	}
	return v
}
