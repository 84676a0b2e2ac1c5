// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package synthesis turns ranked retrieval candidates into a cited answer.
//
// The Synthesizer numbers each candidate in presentation order, asks the
// language model to answer from those passages only, and parses the
// inline [n] references of the reply back into citations. References to
// passages that were never supplied are dropped from both the citation
// list and the answer text.
//
// Confidence combines the fused scores of the cited passages with the top
// retrieval score and the agreement among the top three candidates. An
// answer where the model declines gets confidence 0.
//
// With no candidates, or a top score under the configured minimum, the
// model is not called and a fixed insufficient-information answer is
// returned.
package synthesis
