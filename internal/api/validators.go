package api

import (
	"net/http"
	"regexp"
	"strconv"
)

// EverQuest names are letters only
var characterNameRegex = regexp.MustCompile(`^[A-Za-z]{2,15}$`)

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(req.PathValue(param), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseBool reads a boolean query flag; anything unparsable is false
func parseBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// validateCharacterName checks if a string could be a character name
func validateCharacterName(name string) bool {
	return characterNameRegex.MatchString(name)
}
