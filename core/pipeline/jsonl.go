package pipeline

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// ReadTriplesJSONL reads one {"h": .., "r": .., "t": ..} object per line.
// Blank lines are skipped, a malformed line fails with its line number.
func ReadTriplesJSONL(r io.Reader) ([]model.Triple, error) {
	triples := []model.Triple{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var triple model.Triple
		if err := json.Unmarshal([]byte(text), &triple); err != nil {
			return nil, helper.Errorf(helper.ErrInvalidArgument, "line %d: %v", line, err)
		}
		if _, err := triple.Normalize(); err != nil {
			return nil, helper.Errorf(helper.ErrInvalidArgument, "line %d: %v", line, err)
		}
		triples = append(triples, triple)
	}
	if err := scanner.Err(); err != nil {
		return nil, helper.NewError("read triples", err)
	}

	return triples, nil
}
