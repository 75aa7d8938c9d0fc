// Package prompts contains the prompt text sent to the text-generation
// backend.
//
// Prompt text is Go code rather than config files because it is program
// logic: the tool catalog is interpolated into it, the exact layout is
// part of the directive protocol the model is taught, and tests pin it.
// Each prompt category gets its own file with an exported function that
// accepts the dynamic parts and returns the finished string.
package prompts
