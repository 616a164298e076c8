package events

import (
	"encoding/json"
	"fmt"
)

// SetGateTransitionData sets the Data field with GateTransitionData in a type-safe way.
func (e *MemoryEvent) SetGateTransitionData(data GateTransitionData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert GateTransitionData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetGateTransitionData retrieves GateTransitionData from the Data field.
func (e *MemoryEvent) GetGateTransitionData() (*GateTransitionData, error) {
	var data GateTransitionData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse GateTransitionData: %w", err)
	}
	return &data, nil
}

// SetVersionChangeData sets the Data field with VersionChangeData in a type-safe way.
func (e *MemoryEvent) SetVersionChangeData(data VersionChangeData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert VersionChangeData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetVersionChangeData retrieves VersionChangeData from the Data field.
func (e *MemoryEvent) GetVersionChangeData() (*VersionChangeData, error) {
	var data VersionChangeData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse VersionChangeData: %w", err)
	}
	return &data, nil
}

// SetSyncData sets the Data field with SyncData in a type-safe way.
func (e *MemoryEvent) SetSyncData(data SyncData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert SyncData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetSyncData retrieves SyncData from the Data field.
func (e *MemoryEvent) GetSyncData() (*SyncData, error) {
	var data SyncData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse SyncData: %w", err)
	}
	return &data, nil
}

// structToMap converts a struct to a map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
