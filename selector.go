/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInsufficientCategories = errors.New("not enough unique categories in candidate batch")
	ErrIncompleteCategory     = errors.New("category has too few clues")
	ErrNetworkFailure         = errors.New("trivia service request failed")
)

// Candidate is one record of a random batch; only the category it points at
// matters here.
type Candidate struct {
	CategoryID int `json:"category_id"`
}

type ClueContent struct {
	Question string
	Answer   string
}

type CategoryContent struct {
	ID    int
	Title string
	Clues []ClueContent
}

// CategorySource is the remote trivia service.
type CategorySource interface {
	Candidates(ctx context.Context, count int) ([]Candidate, error)
	Category(ctx context.Context, id int) (CategoryContent, error)
}

type Selector struct {
	source      CategorySource
	batch       int
	concurrency int
}

func newSelector(source CategorySource, batch, concurrency int) *Selector {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Selector{
		source:      source,
		batch:       batch,
		concurrency: concurrency,
	}
}

// selectCategoryIDs returns the first n distinct category ids in candidate
// order. Repeats are skipped without counting toward n.
func selectCategoryIDs(candidates []Candidate, n int) ([]int, error) {
	accepted := make([]int, 0, n)
	seen := make(map[int]struct{}, n)

	for _, c := range candidates {
		if len(accepted) >= n {
			break
		}

		if _, ok := seen[c.CategoryID]; ok {
			continue
		}

		seen[c.CategoryID] = struct{}{}
		accepted = append(accepted, c.CategoryID)
	}

	if len(accepted) < n {
		return nil, fmt.Errorf("%w: found %d of %d in %d candidates",
			ErrInsufficientCategories, len(accepted), n, len(candidates))
	}

	return accepted, nil
}

func categoryFromContent(content CategoryContent) (Category, error) {
	if len(content.Clues) < numCluesPerCategory {
		return Category{}, fmt.Errorf("%w: category %d returned %d of %d",
			ErrIncompleteCategory, content.ID, len(content.Clues), numCluesPerCategory)
	}

	clues := make([]Clue, numCluesPerCategory)
	for i, c := range content.Clues[:numCluesPerCategory] {
		clues[i] = Clue{
			Question: c.Question,
			Answer:   c.Answer,
			State:    Hidden,
		}
	}

	return Category{
		ID:    content.ID,
		Title: content.Title,
		Clues: clues,
	}, nil
}

// Build picks the categories for a new game and fetches their clues.
// Columns follow acceptance order no matter which fetch finishes first.
func (s *Selector) Build(ctx context.Context) (*Board, error) {
	candidates, err := s.source.Candidates(ctx, s.batch)
	if err != nil {
		return nil, err
	}

	ids, err := selectCategoryIDs(candidates, numCategories)
	if err != nil {
		return nil, err
	}

	categories := make([]Category, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			content, err := s.source.Category(gctx, id)
			if err != nil {
				return err
			}
			if content.ID == 0 {
				content.ID = id
			}

			category, err := categoryFromContent(content)
			if err != nil {
				return err
			}

			categories[i] = category

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Board{
		Version:    uuid.NewString(),
		Categories: categories,
	}, nil
}

// failureKind names a build error for the browser.
func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientCategories):
		return "insufficient_categories"
	case errors.Is(err, ErrIncompleteCategory):
		return "incomplete_category"
	case errors.Is(err, ErrNetworkFailure), errors.Is(err, context.DeadlineExceeded):
		return "network_failure"
	default:
		return "unknown"
	}
}
