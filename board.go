/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"strconv"
	"strings"
)

const (
	numCategories       = 6
	numCluesPerCategory = 5

	// Shown in place of the text of a cell nobody has clicked yet.
	hiddenGlyph = "?"
)

// RevealState is the disclosure stage of a single cell. It only ever moves
// forward, and stops at Answer.
type RevealState int

const (
	Hidden RevealState = iota
	Question
	Answer
)

func (s RevealState) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Question:
		return "question"
	case Answer:
		return "answer"
	default:
		return "unknown"
	}
}

type Clue struct {
	Question string
	Answer   string
	State    RevealState
}

// Advance moves the clue one step along Hidden → Question → Answer.
// It reports whether anything changed.
func (c *Clue) Advance() bool {
	switch c.State {
	case Hidden:
		c.State = Question
	case Question:
		c.State = Answer
	default:
		return false
	}

	return true
}

// Text is what the cell currently displays.
func (c Clue) Text() string {
	switch c.State {
	case Question:
		return c.Question
	case Answer:
		return c.Answer
	default:
		return hiddenGlyph
	}
}

type Category struct {
	ID    int
	Title string
	Clues []Clue
}

// Coord addresses one cell: Category is the column, Clue the row.
type Coord struct {
	Category int
	Clue     int
}

func (c Coord) handle() string {
	return strconv.Itoa(c.Category) + "-" + strconv.Itoa(c.Clue)
}

// parseCellHandle maps the handle a cell was rendered with back to its
// coordinate. It does not check the coordinate against any board.
func parseCellHandle(handle string) (Coord, bool) {
	col, row, ok := strings.Cut(handle, "-")
	if !ok {
		return Coord{}, false
	}

	c, err := strconv.Atoi(col)
	if err != nil || c < 0 {
		return Coord{}, false
	}

	r, err := strconv.Atoi(row)
	if err != nil || r < 0 {
		return Coord{}, false
	}

	return Coord{Category: c, Clue: r}, true
}

// Board is one game's worth of categories. A new game always gets a new
// Board; the only mutation a Board sees is cells being revealed.
type Board struct {
	Version    string
	Categories []Category
}

func (b *Board) contains(at Coord) bool {
	if at.Category < 0 || at.Category >= len(b.Categories) {
		return false
	}

	return at.Clue >= 0 && at.Clue < len(b.Categories[at.Category].Clues)
}

// Reveal applies a click to the cell at the given coordinate and returns the
// cell as it stands afterwards. The boolean is false when the coordinate is
// off the board or the cell was already showing its answer.
func (b *Board) Reveal(at Coord) (Clue, bool) {
	if !b.contains(at) {
		return Clue{}, false
	}

	clue := &b.Categories[at.Category].Clues[at.Clue]
	changed := clue.Advance()

	return *clue, changed
}

func (b *Board) titles() []string {
	titles := make([]string, len(b.Categories))
	for i, c := range b.Categories {
		titles[i] = c.Title
	}

	return titles
}
