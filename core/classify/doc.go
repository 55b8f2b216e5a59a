// Package classify holds the clients for the three labelling providers:
//
//   - BatchClient posts a whole transcript to the analysis service and gets
//     one label per segment back.
//   - LLMClassifier asks an OpenAI-compatible chat model about one text.
//   - LLMTagger asks the same chat model to flag segment indices with a
//     category.
//
// None of the clients retry. Callers decide how a failure affects the record.
package classify
