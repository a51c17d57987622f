package metrics

// RequestSecondsBuckets covers fast local calls up to long model inference requests.
var RequestSecondsBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128}
