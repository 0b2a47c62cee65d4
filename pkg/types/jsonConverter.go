package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

func (c Commit) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(&struct {
		CommitID  string   `json:"commitId"`
		Parents   []string `json:"parents"`
		Root      string   `json:"root"`
		Timestamp int64    `json:"timestamp"`
		Merge     bool     `json:"merge"`
	}{
		CommitID:  hex.EncodeToString(c.ID[:]),
		Parents:   convertHashesToStrings(c.Parents),
		Root:      hex.EncodeToString(c.Root[:]),
		Timestamp: int64(c.Timestamp),
		Merge:     c.IsMerge(),
	}, "", "    ")
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(&struct {
		Key      string `json:"key"`
		Object   string `json:"object"`
		Priority string `json:"priority"`
	}{
		Key:      e.Key,
		Object:   hex.EncodeToString(e.Object[:]),
		Priority: e.Priority.String(),
	}, "", "    ")
}

func convertHashesToStrings(hashes []Hash) []string {
	strs := make([]string, len(hashes))
	for i, h := range hashes {
		strs[i] = hex.EncodeToString(h[:])
	}
	return strs
}

func (c *Commit) PrettyPrint() {
	jsonBytes, err := c.MarshalJSON()
	if err != nil {
		fmt.Println("Error marshalling Commit to JSON:", err)
		return
	}

	fmt.Println(string(jsonBytes))
}
