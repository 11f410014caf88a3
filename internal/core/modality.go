package core

// Modality identifies which generation capability a request targets.
type Modality string

const (
	ModalityText         Modality = "text"
	ModalityImage        Modality = "image"
	ModalityAudio        Modality = "audio"
	ModalityEmbedding    Modality = "embedding"
	ModalityVideo        Modality = "video"
	ModalityCountTokens  Modality = "count_tokens"
)
