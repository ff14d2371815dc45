// utils/entrypoint.go
package utils

import (
	"path"
	"strings"
)

// Well-known result file names (case-insensitive), in order of preference.
var resultCandidates = []string{
	"results.json",
	"result.json",
	"eval.json",
	"merged.json",
}

// findResultFile picks the result file out of an archive listing. A well-known name wins,
// shallowest path first; otherwise the archive must hold exactly one .json file.
func findResultFile(names []string) (string, error) {
	for _, candidate := range resultCandidates {
		found := ""
		for _, name := range names {
			if strings.ToLower(path.Base(name)) != candidate {
				continue
			}
			if found == "" || depth(name) < depth(found) {
				found = name
			}
		}
		if found != "" {
			return found, nil
		}
	}

	var jsonFiles []string
	for _, name := range names {
		if strings.HasPrefix(path.Base(name), ".") {
			continue
		}
		if strings.EqualFold(path.Ext(name), ".json") {
			jsonFiles = append(jsonFiles, name)
		}
	}
	switch len(jsonFiles) {
	case 0:
		return "", ErrNoResultFile
	case 1:
		return jsonFiles[0], nil
	default:
		return "", ErrAmbiguousResultFile
	}
}

func depth(name string) int {
	return strings.Count(name, "/")
}
