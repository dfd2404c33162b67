package sink

// GCSConfig holds configuration for the GCS sink (requires -tags gcp).
type GCSConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Prefix string `yaml:"prefix" json:"prefix"` // Optional object prefix
}
