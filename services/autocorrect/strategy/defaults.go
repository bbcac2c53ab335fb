// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

// DefaultLibrary creates a library with every built-in strategy.
//
// Inputs:
//
//	threshold - Similarity threshold for name corrections.
//	index - Module index for missing imports; may be nil.
//	opts - Library options.
//
// Outputs:
//
//	*Library - The populated library.
//	error - Registration failure.
func DefaultLibrary(threshold float64, index *ModuleIndex, opts ...LibraryOption) (*Library, error) {
	lib := NewLibrary(opts...)
	builtins := []Strategy{
		NewIdentifierStrategy(threshold),
		NewVariableStrategy(threshold),
		NewConversionStrategy(),
		NewReferenceStrategy(),
		NewImportStrategy(index),
		NewErrorWrapStrategy(),
		NewMissingTokenStrategy(),
		NewStubStrategy(),
	}
	for i, s := range builtins {
		if err := lib.Register(s, (i+1)*10); err != nil {
			return nil, err
		}
	}
	return lib, nil
}
