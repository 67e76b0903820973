package mcpserver

// QuerySyntax describes the search query language accepted by search_items.
const QuerySyntax = `# Keep Search Query Syntax

A query is a list of clauses separated by whitespace. Clauses are combined
with OR: an item matches when any clause matches, and items matching more
clauses (or rarer terms) rank higher.

## Clauses

| form | meaning |
|---|---|
| ` + "`word`" + ` | term in any text field |
| ` + "`\"two words\"`" + ` | phrase, terms adjacent and in order |
| ` + "`name:word`" + ` | term restricted to one field |
| ` + "`body:\"a phrase\"`" + ` | phrase restricted to one field |
| ` + "`tag:label`" + ` | items carrying the tag or a tag below it (` + "`tag:lang`" + ` matches ` + "`lang/go`" + `) |
| ` + "`id:<item-id>`" + ` | one item by id |
| ` + "`*`" + ` | every item |
| ` + "`+word`" + ` / ` + "`-word`" + ` | clause required / excluded |

Text fields: ` + "`name`, `url`, `comment`, `body`, `title`, `extra`" + `.
` + "`title`" + ` is the title found in the archived page or document and ` + "`extra`" + `
holds Markdown tags and wikilink targets. Any other field name is an error,
as is an unterminated quote or an empty field value.

## Matching

- Text is split into words at Unicode word boundaries and lowercased.
  ` + "`AF_XDP`" + ` and ` + "`lwn.net`" + ` are single words; ` + "`zero-copy`" + ` is two.
- A value containing ` + "`:`" + `, such as a URL, must be quoted:
  ` + "`url:\"https://lwn.net/\"`" + `.
- An empty query returns no results.

## Results

Each result carries the item id, a relevance score and one snippet per text
field. A snippet is a fragment of at most 120 characters with the byte ranges
of the matched terms in ` + "`highlighted`" + `.

## Example

` + "```" + `
tag:kernel "zero copy" name:xdp
` + "```" + `
`
