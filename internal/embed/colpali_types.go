package embed

// Wire types for the colpali inference service API.

type colpaliHealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Dim    int    `json:"dim"`
	Device string `json:"device"`
}

type colpaliEmbedImagesRequest struct {
	// Images are base64-encoded raster image bytes.
	Images    []string `json:"images"`
	Model     string   `json:"model,omitempty"`
	Device    string   `json:"device,omitempty"`
	Precision string   `json:"precision,omitempty"`
}

type colpaliEmbedTextsRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	Device    string   `json:"device,omitempty"`
	Precision string   `json:"precision,omitempty"`
}

type colpaliEmbedResponse struct {
	// Embeddings holds one T x D matrix per input, in input order.
	Embeddings [][][]float32 `json:"embeddings"`
}

type colpaliErrorResponse struct {
	Error string `json:"error"`
}
