// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package protocol

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/tidwall/gjson"
)

//go:embed contract/spud-plugin-host-v1.openrpc.json
var contractJSON []byte

// ContractDocument returns a copy of the embedded OpenRPC document.
func ContractDocument() []byte {
	return slices.Clone(contractJSON)
}

// ValidateContract checks the embedded OpenRPC document against the
// expected version and required method set. It is a startup self-check.
func ValidateContract() error {
	return validateContract(contractJSON)
}

func validateContract(doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return errors.New("failed to parse embedded OpenRPC document")
	}

	version := gjson.GetBytes(doc, "openrpc").String()
	if version != OpenRPCVersion {
		return fmt.Errorf("embedded OpenRPC version %s does not match expected %s", version, OpenRPCVersion)
	}

	actual, err := contractMethods(doc)
	if err != nil {
		return err
	}
	actual = dedupeSorted(actual)
	required := dedupeSorted(slices.Clone(RequiredMethods))
	if !slices.Equal(actual, required) {
		return fmt.Errorf("OpenRPC method set mismatch: expected=%v actual=%v", required, actual)
	}
	return nil
}

// contractMethods returns method names in document order.
func contractMethods(doc []byte) ([]string, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errors.New("failed to parse embedded OpenRPC document")
	}
	methods := gjson.GetBytes(doc, "methods")
	if !methods.IsArray() {
		return nil, errors.New("embedded OpenRPC document has no methods array")
	}

	var names []string
	for _, m := range methods.Array() {
		name := m.Get("name")
		if name.Type != gjson.String {
			return nil, errors.New("embedded OpenRPC method is missing a name")
		}
		names = append(names, name.String())
	}
	return names, nil
}

// HostCapabilities returns the contract's methods and every event category.
func HostCapabilities() (Capabilities, error) {
	methods, err := contractMethods(contractJSON)
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{Methods: methods, EventCategories: AllCategories()}, nil
}

func dedupeSorted(values []string) []string {
	sort.Strings(values)
	return slices.Compact(values)
}
