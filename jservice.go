package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Responses larger than this are treated as a broken service.
const maxTriviaResponse = 4 << 20

// jService speaks the jService HTTP API:
//
//	GET /api/random?count=N    -> [{"category_id": 1, ...}, ...]
//	GET /api/category?id=ID    -> {"id": 1, "title": "...", "clues": [...]}
type jService struct {
	base   *url.URL
	client *http.Client
}

func newJService(rawURL string, timeout time.Duration) (*jService, error) {
	base, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse trivia url: %w", err)
	}

	return &jService{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// flexString accepts both JSON strings and numbers; some answers come back
// as bare numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)

		return nil
	}

	if bytes.Equal(data, []byte("null")) {
		*f = ""

		return nil
	}

	*f = flexString(data)

	return nil
}

type jServiceCategory struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Clues []struct {
		Question flexString `json:"question"`
		Answer   flexString `json:"answer"`
	} `json:"clues"`
}

func (j *jService) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := j.base.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %s: %s", ErrNetworkFailure, u.Path, resp.Status)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTriviaResponse)).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrNetworkFailure, u.Path, err)
	}

	return nil
}

func (j *jService) Candidates(ctx context.Context, count int) ([]Candidate, error) {
	var candidates []Candidate

	err := j.get(ctx, "/api/random", url.Values{"count": {strconv.Itoa(count)}}, &candidates)
	if err != nil {
		return nil, err
	}

	return candidates, nil
}

func (j *jService) Category(ctx context.Context, id int) (CategoryContent, error) {
	var raw jServiceCategory

	err := j.get(ctx, "/api/category", url.Values{"id": {strconv.Itoa(id)}}, &raw)
	if err != nil {
		return CategoryContent{}, err
	}

	content := CategoryContent{
		ID:    raw.ID,
		Title: raw.Title,
		Clues: make([]ClueContent, 0, len(raw.Clues)),
	}
	for _, c := range raw.Clues {
		content.Clues = append(content.Clues, ClueContent{
			Question: string(c.Question),
			Answer:   string(c.Answer),
		})
	}

	return content, nil
}
