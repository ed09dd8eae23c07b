package log

import (
	"bytes"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// color is a console encoder that lets ANSI sequences embedded in field
// values through instead of printing them escaped.
type color struct {
	*zapcore.EncoderConfig
	zapcore.Encoder
}

func NewColor(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return color{
		EncoderConfig: &cfg,
		Encoder:       zapcore.NewConsoleEncoder(cfg),
	}
}

func (c color) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}
	unescaped := bytes.ReplaceAll(buf.Bytes(), []byte("\\u001b"), []byte("\u001b"))
	buf.Reset()
	_, _ = buf.Write(unescaped)
	return buf, nil
}

func (c color) Clone() zapcore.Encoder {
	return color{
		EncoderConfig: c.EncoderConfig,
		Encoder:       c.Encoder.Clone(),
	}
}
