// Package transform implements the pipeline stages that rewrite a record's
// description or content: markup stripping, language normalization,
// presentation-code removal, and description augmentation.
//
// Transforms that call the judgment service implement stage.Fallbacker. When
// the service stays unavailable the record keeps its original value and the
// metadata key "<stage>_fallback" is set.
package transform
