package txn

// The txn package runs transactions against a cell.Table with optimistic concurrency control.
//
// A transaction is a line of text such as `A = B + 3; C* = A - 1`. Running one is a sequence of attempts. Each
// attempt parses the text, then evaluates every command against a fresh Cache. The cache peeks cells without locking
// them and remembers the value it saw (the initial value) and the value the transaction computed (the working
// value). No cell is locked while the commands are evaluated, so the set of cells a transaction touches may depend on
// values read through `*` dereferences.
//
// Once every command is staged, the attempt opens each touched cell in ascending index order: for read if it was
// peeked, for write if it was assigned, and verifies that peeked cells still hold their initial value. Because every
// attempt acquires cells in the same order, no cycle of waiting attempts can form. If any open or verify reports a
// conflict, the attempt closes everything it opened, sleeps for a backoff that grows with the number of conflicts,
// and starts over with an empty cache. Otherwise it writes the working values and closes the cells.
//
// Three outcomes are kept apart:
//  * a conflict (*cell.ConflictError) is only seen by the retry loop in Executor,
//  * a malformed transaction (*ParseError) ends the run with StatusInvalid before any cell is touched,
//  * a broken locking discipline (*cell.UsageError) is a panic and is never recovered here.
//
// Conflicts are detected per cell. Two transactions that read each other's write sets without writing a common cell
// can both commit (write skew); this engine does not provide serializability across cells.
