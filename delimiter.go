package rowflow

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// DefaultSampleLines is the number of lines inspected by delimiter detection
const DefaultSampleLines = 10

// delimiterCandidates are scored in this order; comma wins ties
var delimiterCandidates = []rune{',', ';', '\t', '|', ':'}

// DelimiterScore is the score of one candidate delimiter
type DelimiterScore struct {
	Delimiter  rune
	Mean       float64
	Variance   float64
	Score      float64
	Confidence float64
}

// DelimiterDetection is the result of delimiter detection.
// Confidence is advisory; values below 0.7 should not be trusted.
type DelimiterDetection struct {
	Delimiter    rune
	Confidence   float64
	SampledRows  int
	Columns      int
	Alternatives []DelimiterScore
}

// String implements fmt.Stringer
func (d DelimiterDetection) String() string {
	return fmt.Sprintf("delimiter %q (confidence %.2f, %d rows, %d columns)", d.Delimiter, d.Confidence, d.SampledRows, d.Columns)
}

// DetectDelimiter samples up to sampleLines non-empty lines of r and scores each candidate by
// mean occurrences per line multiplied by 1/(1+variance). r is consumed.
func DetectDelimiter(r io.Reader, sampleLines int) (DelimiterDetection, error) {
	detection, _, err := SniffDelimiter(r, sampleLines)
	return detection, err
}

// SniffDelimiter works like DetectDelimiter but also returns a reader that yields the complete
// stream, including the sampled bytes.
func SniffDelimiter(r io.Reader, sampleLines int) (DelimiterDetection, io.Reader, error) {
	if sampleLines <= 0 {
		sampleLines = DefaultSampleLines
	}

	br := bufio.NewReader(r)
	var consumed bytes.Buffer
	lines := make([]string, 0, sampleLines)

	for len(lines) < sampleLines {
		raw, err := br.ReadString('\n')
		consumed.WriteString(raw)
		line := strings.TrimRight(raw, "\r\n")
		if len(lines) == 0 {
			line = strings.TrimPrefix(line, utf8BOM)
		}
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return DelimiterDetection{}, nil, &ParseError{Err: err}
		}
	}

	replay := io.MultiReader(bytes.NewReader(consumed.Bytes()), br)
	return scoreDelimiters(lines), replay, nil
}

// scoreDelimiters ranks the candidates over the sampled lines
func scoreDelimiters(lines []string) DelimiterDetection {
	scores := make([]DelimiterScore, 0, len(delimiterCandidates))
	total := 0.0

	for _, candidate := range delimiterCandidates {
		s := DelimiterScore{Delimiter: candidate}
		if len(lines) > 0 {
			counts := make([]float64, len(lines))
			for i, line := range lines {
				counts[i] = float64(countOutsideQuotes(line, candidate, '"'))
				s.Mean += counts[i]
			}
			s.Mean /= float64(len(lines))
			for _, c := range counts {
				s.Variance += (c - s.Mean) * (c - s.Mean)
			}
			s.Variance /= float64(len(lines))
			s.Score = s.Mean * (1 / (1 + s.Variance))
		}
		total += s.Score
		scores = append(scores, s)
	}

	if total > 0 {
		for i := range scores {
			scores[i].Confidence = scores[i].Score / total
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	best := scores[0]
	if best.Score == 0 || (len(scores) > 1 && scores[1].Score == best.Score) {
		for _, s := range scores {
			if s.Delimiter == ',' {
				best = s
				break
			}
		}
	}

	return DelimiterDetection{
		Delimiter:    best.Delimiter,
		Confidence:   best.Confidence,
		SampledRows:  len(lines),
		Columns:      int(math.Round(best.Mean)) + 1,
		Alternatives: scores,
	}
}
