package domain

// BlockType enumerates the closed set of content block kinds.
type BlockType string

const (
	BlockHeader       BlockType = "header"
	BlockText         BlockType = "text"
	BlockImage        BlockType = "image"
	BlockButton       BlockType = "button"
	BlockInput        BlockType = "input"
	BlockQuestionText BlockType = "question-text"
	BlockOptionsList  BlockType = "options-list"
	BlockResultLayout BlockType = "result-layout"
	BlockCTA          BlockType = "cta"
	BlockPricing      BlockType = "pricing"
	BlockGuarantee    BlockType = "guarantee"
	BlockProgress     BlockType = "progress"
)

// BlockTypes lists every valid block type in a stable order.
var BlockTypes = []BlockType{
	BlockHeader, BlockText, BlockImage, BlockButton, BlockInput, BlockQuestionText,
	BlockOptionsList, BlockResultLayout, BlockCTA, BlockPricing, BlockGuarantee, BlockProgress,
}

// Valid reports whether t belongs to the closed block type set.
func (t BlockType) Valid() bool {
	for _, bt := range BlockTypes {
		if bt == t {
			return true
		}
	}
	return false
}

// Block is one editable content unit of a stage. Blocks are derived from the
// stage record and exist only for the duration of an editing session.
type Block struct {
	ID      string         `json:"id"`
	Type    BlockType      `json:"type"`
	Order   int            `json:"order"`
	Content map[string]any `json:"content"`
	Style   map[string]any `json:"style,omitempty"`
}

// Issue is a single finding addressed by path, used by import validation and
// publish validation alike.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	StageID string `json:"stage_id,omitempty"`
	Code    string `json:"code,omitempty"`
}
