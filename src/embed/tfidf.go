package embed

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

// TFIDFEngine builds term-frequency vectors over a bounded hashed feature
// space. Because terms are hashed into a fixed number of buckets, the output
// dimension never changes as the vocabulary grows, so stored vectors stay
// comparable without re-embedding.
//
// It has no runtime dependency and is the terminal fallback of the auto
// policy.
type TFIDFEngine struct {
	dim       int
	vocabPath string

	mu       sync.RWMutex
	docCount int
	termDF   map[string]int
}

type tfidfVocab struct {
	DocumentCount int            `json:"document_count"`
	TermDF        map[string]int `json:"term_df"`
}

// NewTFIDFEngine creates a TF-IDF engine persisting its vocabulary under
// vocabPath. An empty vocabPath keeps the vocabulary in memory only.
func NewTFIDFEngine(vocabPath string) *TFIDFEngine {
	e := &TFIDFEngine{
		dim:       DefaultDimensions,
		vocabPath: vocabPath,
		termDF:    make(map[string]int),
	}
	e.loadVocabulary()
	return e
}

func (e *TFIDFEngine) Name() string                 { return EngineTFIDF }
func (e *TFIDFEngine) Dimensions() int              { return e.dim }
func (e *TFIDFEngine) ResourceClass() ResourceClass { return ResourceLow }
func (e *TFIDFEngine) Available() bool              { return true }

func (e *TFIDFEngine) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return zeroVector(e.dim), nil
	}

	tf := termFrequency(tokens)

	e.mu.RLock()
	vector := make([]float64, e.dim)
	for term, tfScore := range tf {
		vector[e.bucket(term)] += tfScore * e.idf(term)
	}
	e.mu.RUnlock()

	var magnitude float64
	for _, v := range vector {
		magnitude += v * v
	}
	magnitude = math.Sqrt(magnitude)

	out := make([]float32, e.dim)
	if magnitude > 0 {
		for i, v := range vector {
			out[i] = float32(v / magnitude)
		}
	}
	return out, nil
}

// UpdateVocabulary records one document's terms for future IDF weighting.
// The vocabulary is flushed to disk every 10 documents.
func (e *TFIDFEngine) UpdateVocabulary(text string) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return
	}

	e.mu.Lock()
	e.docCount++
	seen := make(map[string]struct{}, len(tokens))
	for _, term := range tokens {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		e.termDF[term]++
	}
	flush := e.docCount%10 == 0
	e.mu.Unlock()

	if flush {
		e.saveVocabulary()
	}
}

// idf uses add-one smoothing: log((N+1)/(df+1)). Callers hold e.mu.
func (e *TFIDFEngine) idf(term string) float64 {
	if e.docCount == 0 {
		return 1.0
	}
	df := e.termDF[term]
	return math.Log(float64(e.docCount+1) / float64(df+1))
}

func (e *TFIDFEngine) bucket(term string) int {
	h := fnv.New32a()
	h.Write([]byte(term))
	return int(h.Sum32() % uint32(e.dim))
}

func (e *TFIDFEngine) loadVocabulary() {
	if e.vocabPath == "" {
		return
	}
	data, err := os.ReadFile(e.vocabPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("tfidf: failed to load vocabulary %s: %v", e.vocabPath, err)
		}
		return
	}
	var vocab tfidfVocab
	if err := json.Unmarshal(data, &vocab); err != nil {
		log.Printf("tfidf: invalid vocabulary file %s: %v", e.vocabPath, err)
		return
	}
	e.docCount = vocab.DocumentCount
	if vocab.TermDF != nil {
		e.termDF = vocab.TermDF
	}
}

func (e *TFIDFEngine) saveVocabulary() {
	if e.vocabPath == "" {
		return
	}
	e.mu.RLock()
	vocab := tfidfVocab{DocumentCount: e.docCount, TermDF: make(map[string]int, len(e.termDF))}
	for term, df := range e.termDF {
		vocab.TermDF[term] = df
	}
	e.mu.RUnlock()

	data, err := json.Marshal(vocab)
	if err != nil {
		log.Printf("tfidf: failed to encode vocabulary: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.vocabPath), 0o755); err != nil {
		log.Printf("tfidf: failed to create vocabulary dir: %v", err)
		return
	}
	if err := os.WriteFile(e.vocabPath, data, 0o644); err != nil {
		log.Printf("tfidf: failed to save vocabulary: %v", err)
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termFrequency normalizes counts by the most frequent term in the document.
func termFrequency(tokens []string) map[string]float64 {
	counts := make(map[string]int, len(tokens))
	maxCount := 0
	for _, term := range tokens {
		counts[term]++
		if counts[term] > maxCount {
			maxCount = counts[term]
		}
	}
	tf := make(map[string]float64, len(counts))
	for term, count := range counts {
		tf[term] = float64(count) / float64(maxCount)
	}
	return tf
}
