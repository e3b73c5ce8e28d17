package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer drives a single gosseract client. The client is not
// safe for concurrent use, so recognition calls are serialized.
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// TesseractFactory returns a Factory that constructs a Tesseract-backed
// recognizer and verifies it is actually usable before publishing it.
func TesseractFactory(lang string) Factory {
	return func(ctx context.Context) (Recognizer, error) {
		if lang == "" {
			lang = "eng"
		}

		client := gosseract.NewClient()
		if err := client.SetLanguage(lang); err != nil {
			client.Close()
			return nil, fmt.Errorf("set language %q: %w", lang, err)
		}

		// A client only fails on first use when tessdata or the shared
		// library is broken, so probe with a minimal recognition pass.
		if err := client.SetImageFromBytes(probePNG); err != nil {
			client.Close()
			return nil, fmt.Errorf("engine probe: %w", err)
		}
		if _, err := client.Text(); err != nil {
			client.Close()
			return nil, fmt.Errorf("engine probe: %w", err)
		}

		return &TesseractRecognizer{client: client}, nil
	}
}

func (r *TesseractRecognizer) Recognize(ctx context.Context, image []byte) (Recognition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}

	if err := r.client.SetImageFromBytes(image); err != nil {
		return Recognition{}, fmt.Errorf("set image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return Recognition{}, fmt.Errorf("recognize text: %w", err)
	}

	words, avg := r.wordConfidences()
	return Recognition{
		Text:       text,
		Words:      words,
		Confidence: avg,
	}, nil
}

func (r *TesseractRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}

// wordConfidences pulls per-word boxes from the last recognition pass and
// averages their confidence, normalized to 0..1.
func (r *TesseractRecognizer) wordConfidences() ([]WordConfidence, float32) {
	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}

	words := make([]WordConfidence, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, WordConfidence{Word: b.Word, Confidence: float32(conf)})
	}
	return words, float32(sum / float64(len(boxes)))
}

// probePNG is a 1x1 white PNG used to validate a fresh client.
var probePNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53, 0xde, 0x00, 0x00, 0x00,
	0x0c, 0x49, 0x44, 0x41, 0x54, 0x08, 0xd7, 0x63, 0xf8, 0xff, 0xff, 0x3f,
	0x00, 0x05, 0xfe, 0x02, 0xfe, 0xdc, 0xcc, 0x59, 0xe7, 0x00, 0x00, 0x00,
	0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
