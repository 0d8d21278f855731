//go:build onnx

package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/singleflight"
)

const sentenceTransformerSeqLen = 128

// SentenceTransformerOptions locates the exported MiniLM-class model.
type SentenceTransformerOptions struct {
	ModelPath     string // ONNX model file
	TokenizerPath string // tokenizer.json with a WordPiece vocab
	LibraryPath   string // optional onnxruntime shared library override
}

// SentenceTransformerEngine is the high-accuracy dense engine. It runs an
// exported sentence-transformer model through onnxruntime with WordPiece
// tokenization and mean pooling.
type SentenceTransformerEngine struct {
	opts  SentenceTransformerOptions
	dim   int
	group singleflight.Group

	// Session and tokenizer are published together so a reader never sees
	// one without the other.
	rt atomic.Pointer[sentenceTransformerRuntime]
}

type sentenceTransformerRuntime struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
}

func NewSentenceTransformerEngine(opts SentenceTransformerOptions) *SentenceTransformerEngine {
	return &SentenceTransformerEngine{opts: opts, dim: DefaultDimensions}
}

func (e *SentenceTransformerEngine) Name() string                 { return EngineSentenceTransformer }
func (e *SentenceTransformerEngine) Dimensions() int              { return e.dim }
func (e *SentenceTransformerEngine) ResourceClass() ResourceClass { return ResourceHigh }

// Available checks for the model artifacts on disk without loading them.
func (e *SentenceTransformerEngine) Available() bool {
	if e.rt.Load() != nil {
		return true
	}
	if _, err := os.Stat(e.opts.ModelPath); err != nil {
		return false
	}
	_, err := os.Stat(e.opts.TokenizerPath)
	return err == nil
}

func (e *SentenceTransformerEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return zeroVector(e.dim), nil
	}
	rt, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	inputIDs, attentionMask := rt.tokenizer.encode(text, sentenceTransformerSeqLen)
	tokenTypeIDs := make([]int64, sentenceTransformerSeqLen)

	shape := ort.NewShape(1, int64(sentenceTransformerSeqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := rt.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	return meanPool(hidden.GetData(), hidden.GetShape(), attentionMask, e.dim)
}

func (e *SentenceTransformerEngine) load(ctx context.Context) (*sentenceTransformerRuntime, error) {
	if rt := e.rt.Load(); rt != nil {
		return rt, nil
	}
	ch := e.group.DoChan("load", func() (any, error) {
		if rt := e.rt.Load(); rt != nil {
			return rt, nil
		}
		if e.opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(e.opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnxruntime init: %w", err)
		}
		tokenizer, err := loadWordPieceTokenizer(e.opts.TokenizerPath)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		session, err := ort.NewDynamicAdvancedSession(e.opts.ModelPath,
			[]string{"input_ids", "attention_mask", "token_type_ids"},
			[]string{"last_hidden_state"},
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("onnx session: %w", err)
		}
		rt := &sentenceTransformerRuntime{session: session, tokenizer: tokenizer}
		e.rt.Store(rt)
		return rt, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sentenceTransformerRuntime), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *SentenceTransformerEngine) Close() error {
	if rt := e.rt.Swap(nil); rt != nil {
		return rt.session.Destroy()
	}
	return nil
}

// meanPool averages the hidden states of attended tokens and L2-normalizes
// the result. Accepts either a pooled [1, dim] or a raw [1, seq, dim] output.
func meanPool(data []float32, shape []int64, attentionMask []int64, dim int) ([]float32, error) {
	embedding := make([]float32, dim)
	switch len(shape) {
	case 2:
		if len(data) < dim {
			return nil, fmt.Errorf("pooled output too short: %d < %d", len(data), dim)
		}
		copy(embedding, data[:dim])
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != dim {
			return nil, fmt.Errorf("hidden size mismatch: got %d, want %d", hidden, dim)
		}
		attended := 0
		for i := 0; i < seqLen; i++ {
			if i >= len(attentionMask) || attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return embedding, nil
		}
		for j := range embedding {
			embedding[j] /= float32(attended)
		}
	default:
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= scale
		}
	}
	return embedding, nil
}

// wordPieceTokenizer is a minimal BERT-style tokenizer backed by the vocab
// section of a tokenizer.json export.
type wordPieceTokenizer struct {
	vocab    map[string]int
	clsToken int64
	sepToken int64
	unkToken int64
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has no vocab", path)
	}
	return &wordPieceTokenizer{
		vocab:    parsed.Model.Vocab,
		clsToken: 101,
		sepToken: 102,
		unkToken: 100,
	}, nil
}

// encode produces padded input_ids and attention_mask of length maxLen,
// framed by [CLS] and [SEP].
func (t *wordPieceTokenizer) encode(text string, maxLen int) ([]int64, []int64) {
	tokens := t.tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	inputIDs := make([]int64, maxLen)
	attentionMask := make([]int64, maxLen)
	inputIDs[0] = t.clsToken
	attentionMask[0] = 1
	for i, id := range tokens {
		inputIDs[i+1] = id
		attentionMask[i+1] = 1
	}
	inputIDs[len(tokens)+1] = t.sepToken
	attentionMask[len(tokens)+1] = 1
	return inputIDs, attentionMask
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range tokenize(text) {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
			} else {
				ids = append(ids, t.unkToken)
			}
		}
	}
	return ids
}

// wordPieces splits a word into greedy longest-match subwords with the "##"
// continuation prefix.
func (t *wordPieceTokenizer) wordPieces(word string) []string {
	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	if strings.TrimSpace(word) == "" {
		return nil
	}
	return pieces
}
