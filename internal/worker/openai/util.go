package openai

import (
	"encoding/json"
	"io"
)

type readCloser struct {
	io.Reader
}

func (readCloser) Close() error { return nil }

func nopCloser(r io.Reader) io.ReadCloser {
	return readCloser{r}
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
