package output

import (
	"encoding/json"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
)

// JSONFormatter formats responses as the JSON envelope served over HTTP.
type JSONFormatter struct {
	config Config
	pretty bool
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(config Config) *JSONFormatter {
	return &JSONFormatter{
		config: config,
		pretty: true,
	}
}

// NewJSONFormatterCompact creates a JSON formatter with compact output.
func NewJSONFormatterCompact(config Config) *JSONFormatter {
	return &JSONFormatter{
		config: config,
		pretty: false,
	}
}

// Format formats the response as JSON.
func (f *JSONFormatter) Format(resp dispatch.Response) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if f.pretty {
		data, err = json.MarshalIndent(resp, "", "  ")
	} else {
		data, err = json.Marshal(resp)
	}
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
