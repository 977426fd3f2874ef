package mcpserver

// NoteFormatContract describes how notes are named, stored and linked.
// LLM consumers should read it before creating or renaming notes.
const NoteFormatContract = `# notetaker Note Format Contract

Every note is one plain text file in the notes directory.

## Naming

- The file name is the note title followed by ` + "`" + `.txt` + "`" + `.
- Titles may contain only ASCII letters, digits, space, and the characters
  ` + "`" + `_ . - ( )` + "`" + `. They are 1 to 255 characters long and must not be blank.
- Titles are unique. Renaming a note renames its file on the next save.
- A note created without a title is titled with its creation time as
  ` + "`" + `YYYYMMDDhhmm` + "`" + ` (for example ` + "`" + `202501201430` + "`" + `).

## Content

- Content is plain UTF-8 text. There is no front matter and no markup
  other than links.
- Changes are saved after one second without further edits.

## Links

- ` + "`" + `[[Title]]` + "`" + ` links to the note with that title.
- ` + "`" + `[[Title|shown text]]` + "`" + ` links with different display text.
- A target matches a title exactly, or else loosely: case and every
  character that is not a letter or digit are ignored, so
  ` + "`" + `[[project plan]]` + "`" + ` reaches "Project-Plan". The first matching note wins.
- Links to titles that do not exist are kept and resolve once such a note
  appears.

## Example

` + "```" + `text
Weekly standup 2025-01-20

Attendees: Alice, Bob.
- Alice to review the [[Design Doc]]
- Bob to update [[Roadmap|the roadmap]]
` + "```" + `
`
