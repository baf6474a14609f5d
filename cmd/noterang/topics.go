package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/noterang/internal/models"
	"gopkg.in/yaml.v3"
)

type topicFile struct {
	Topics []models.Topic `json:"topics" yaml:"topics"`
}

// loadTopics reads a batch file. JSON is chosen by the .json extension,
// anything else is parsed as YAML. Unknown fields are rejected.
func loadTopics(path string) ([]models.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("batch file %s is empty", path)
	}

	var topics []models.Topic
	if strings.EqualFold(filepath.Ext(path), ".json") {
		topics, err = decodeJSONTopics(trimmed)
	} else {
		topics, err = decodeYAMLTopics(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	return topics, nil
}

func decodeJSONTopics(data []byte) ([]models.Topic, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if data[0] == '[' {
		var topics []models.Topic
		if err := decoder.Decode(&topics); err != nil {
			return nil, err
		}
		return topics, nil
	}

	var file topicFile
	if err := decoder.Decode(&file); err != nil {
		return nil, err
	}
	return file.Topics, nil
}

func decodeYAMLTopics(data []byte) ([]models.Topic, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	decode := func(v interface{}) error {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		return decoder.Decode(v)
	}

	if len(root.Content) > 0 && root.Content[0].Kind == yaml.SequenceNode {
		var topics []models.Topic
		if err := decode(&topics); err != nil {
			return nil, err
		}
		return topics, nil
	}

	var file topicFile
	if err := decode(&file); err != nil {
		return nil, err
	}
	return file.Topics, nil
}
