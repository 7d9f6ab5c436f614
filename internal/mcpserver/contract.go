package mcpserver

// AnnotationSyntax describes how margin annotations are written so that LLM
// consumers can read and produce them.
const AnnotationSyntax = `# Marginalia Annotation Syntax

Annotations live inside ordinary Markdown documents, hidden in Obsidian-style
comments. Everything outside the comment markers is document text.

## Forms

- ` + "`" + `%%> text %%` + "`" + ` is an outbound annotation shown in the right margin.
- ` + "`" + `%%< text %%` + "`" + ` is an inbound annotation shown in the left margin.
- Several annotations may share a line; each is a separate annotation.
- Syntax inside fenced code blocks, ` + "`" + `$$` + "`" + ` math blocks and inline code is ignored.

## Colour

A configured prefix at the start of the text selects a colour (for example
` + "`" + `!` + "`" + ` or ` + "`" + `?` + "`" + `). The prefix is stripped from the displayed text.

## Block IDs

A trailing ` + "`" + ` ^abc123` + "`" + ` at the end of the line gives the annotation a stable
identity. IDs are 6 lowercase alphanumeric characters and unique per document.
Stitching and grading allocate one automatically when missing.

## Links

- ` + "`" + `[[Document#^abc123]]` + "`" + ` links to the annotation with that block ID.
- ` + "`" + `[[Document]]` + "`" + ` links to the first annotation of the document.
- Links whose target cannot be found are kept and reported as broken.

## Flashcards

Text ending in ` + "`" + `;;` + "`" + ` marks a flashcard. Only flashcards with a block ID
can be reviewed; grades are hard, good or easy.

## Images

` + "`" + `img:[[file.png]]` + "`" + ` embeds a stored attachment. Use the ` + "`" + `upload_asset` + "`" + `
tool to store images; it writes the annotation for you.

## Example

` + "```" + `markdown
The tides follow the moon. %%> ?What causes tides [[Physics#^grav01]];; %% ^tide01
` + "```" + `
`
