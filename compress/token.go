package compress

import (
	pkgtiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// tiktokenTokenizer counts tokens with a real BPE encoding.
type tiktokenTokenizer struct {
	enc *pkgtiktoken.Tiktoken
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTiktokenTokenizer returns an exact tokenizer for the given model.
func NewTiktokenTokenizer(model string) (types.Tokenizer, error) {
	enc, err := pkgtiktoken.EncodingForModel(model)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "load tiktoken encoding").WithCause(err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

// NewTokenizer returns the exact tokenizer for model, falling back to the
// character-length estimate when the encoding cannot be loaded (unknown
// model, missing encoding data). The estimate is calibrated for typical
// English prose and overcounts CJK-heavy text less than naive len/4.
func NewTokenizer(model string, logger *zap.Logger) types.Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok, err := NewTiktokenTokenizer(model)
	if err != nil {
		logger.Warn("tiktoken unavailable, using estimate tokenizer",
			zap.String("model", model), zap.Error(err))
		return types.NewEstimateTokenizer()
	}
	return tok
}
