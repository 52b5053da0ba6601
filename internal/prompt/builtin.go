// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

var builtins = []Template{
	{
		ID:          ExplainCode,
		Name:        "Explain Code",
		Description: "Explain what the selected code does",
		Text: "You are an expert AI programming assistant. Explain the following code in detail:\n\n{fileContext}\n\n" +
			"Code to explain:\n```\n{selectedCode}\n```\n\n" +
			"Provide a clear explanation of what this code does, its purpose, and how it works. Break down complex parts if necessary.",
	},
	{
		ID:          RefactorCode,
		Name:        "Refactor Code",
		Description: "Refactor the selected code for better performance/readability",
		Text: "You are an expert AI programming assistant. Refactor the following code to improve its quality, readability, or performance:\n\n{fileContext}\n\n" +
			"Code to refactor:\n```\n{selectedCode}\n```\n\n" +
			"Provide a refactored version with explanations of what you changed and why. Focus on best practices and code quality.",
	},
	{
		ID:          DocumentCode,
		Name:        "Document Code",
		Description: "Add documentation to the selected code",
		Text: "You are an expert AI programming assistant. Add proper documentation to the following code:\n\n{fileContext}\n\n" +
			"Code to document:\n```\n{selectedCode}\n```\n\n" +
			"Add clear and comprehensive documentation comments to this code. Explain parameters, return values, and the purpose of functions, methods and types.",
	},
	{
		ID:          GeneralCoding,
		Name:        "General Coding",
		Description: "General programming assistance",
		Text:        "You are an expert AI programming assistant. Help me with the following programming task:\n\n{question}",
	},
	{
		ID:          DebugHelp,
		Name:        "Debug Help",
		Description: "Help debugging an issue",
		Text: "You are an expert AI programming assistant. Help me debug the following issue:\n\n{context}\n\n" +
			"The issue I'm facing is:\n{question}\n\n" +
			"Provide step-by-step debugging advice and potential solutions.",
	},
	{
		ID:          CodeGeneration,
		Name:        "Code Generation",
		Description: "Generate code based on requirements",
		Text: "You are an expert AI programming assistant. Generate code based on the following requirements:\n\n{context}\n\n" +
			"Requirements:\n{question}\n\n" +
			"Provide complete, well-commented code that satisfies these requirements.",
	},
}
