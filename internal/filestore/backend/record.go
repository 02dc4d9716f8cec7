package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the self-describing value format for encoded key-value
// backends: base64 body plus enough metadata to decode it without
// consulting the registry.
type Record struct {
	Data      string            `json:"data"`
	Metadata  RecordMetadata    `json:"metadata"`
	Custom    map[string]string `json:"custom,omitempty"`
	Size      int64             `json:"size"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RecordMetadata describes how the body was encoded.
type RecordMetadata struct {
	ContentType  string `json:"contentType"`
	IsCompressed bool   `json:"isCompressed"`
}

// EncodeRecord builds the stored value for an encoded backend.
// Compression is applied when enabled and the payload exceeds
// threshold bytes; the original size is always recorded.
func EncodeRecord(in *PutInput, compress bool, threshold int64) ([]byte, *PutInfo, error) {
	body := in.Data
	compressed := false
	if compress && int64(len(in.Data)) > threshold {
		body, compressed = Compress(in.Data)
	}

	rec := Record{
		Data: base64.StdEncoding.EncodeToString(body),
		Metadata: RecordMetadata{
			ContentType:  in.ContentType,
			IsCompressed: compressed,
		},
		Custom:    in.Metadata,
		Size:      int64(len(in.Data)),
		CreatedAt: time.Now().UTC(),
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("encode record: %w", err)
	}

	return encoded, &PutInfo{
		StoredSize: int64(len(encoded)),
		Compressed: compressed,
	}, nil
}

// DecodeRecord reverses EncodeRecord, returning the original bytes.
// Any decode failure wraps ErrCorrupt so callers can distinguish
// corruption from absence.
func DecodeRecord(key string, value []byte) (*Object, error) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("%w: record frame: %v", ErrCorrupt, err)
	}

	body, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 body: %v", ErrCorrupt, err)
	}

	if rec.Metadata.IsCompressed {
		body, err = Decompress(body)
		if err != nil {
			return nil, err
		}
	}

	return &Object{
		Key:         key,
		Data:        body,
		ContentType: rec.Metadata.ContentType,
		Metadata:    rec.Custom,
		Size:        rec.Size,
		CreatedAt:   rec.CreatedAt,
	}, nil
}
