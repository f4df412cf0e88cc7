package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

type JSONBufferPool struct {
	pool sync.Pool
}

func (p *JSONBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *JSONBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &JSONBufferPool{}

// MarshalFramed encodes data as compact JSON behind a one-byte header.
func MarshalFramed(header byte, data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	buf.WriteByte(header)
	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	encoded := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	result := make([]byte, len(encoded))
	copy(result, encoded)
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig decodes a backend-specific config block into target.
// Blocks read from YAML keep their YAML semantics, so duration strings such
// as "3s" decode into time.Duration fields.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	if typed, ok := config.(T); ok {
		*target = typed
		return nil
	}

	switch config.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
		configBytes, err := yaml.Marshal(config)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(configBytes, target)
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}
