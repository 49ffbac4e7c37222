// Package archive persists generated research reports as markdown files.
//
// Each report is written once under a name derived from the chat id and the
// save time:
//
//	report_<chat_id>_<YYYYMMDD_HHMMSS.mmm>.md
//
// The file starts with a short header (query, date, chat id) followed by a
// horizontal rule and the report body. Read strips the header again, so the
// body returned is byte-for-byte the body that was saved.
//
// Saves go through a temp file in the same directory and a hard link into
// place, so readers never observe a partial file and an existing report is
// never replaced.
package archive
