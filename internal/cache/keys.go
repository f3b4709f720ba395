package cache

import (
	"strconv"

	"github.com/resumemate/backend/pkg/utils"
)

func EmbeddingKey(text string) string {
	return utils.HashString(utils.NormalizeText(text))
}

func ResultKey(query string, topK int) string {
	return utils.HashString(utils.NormalizeText(query) + "|" + strconv.Itoa(topK))
}

func ResponseKey(question string) string {
	return utils.HashString(utils.NormalizeText(question))
}
