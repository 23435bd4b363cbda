package tinyocc

/*
TinyOCC is a small optimistic concurrency control engine intended for teaching and experimentation. A fixed table of
named integer cells (A to Z) is updated by transactions written in a tiny language, for example

	A = B + 3; C* = A - 1

where `X*` names the cell indexed by the value of X. Transactions run concurrently without holding locks while they
compute; at commit time every touched cell is opened in ascending order, reads are verified against the values that
were seen, and the writes are applied. A transaction that loses a race backs off and starts over.

Building TinyOCC produces one executable, tinyocc, with a batch mode (`tinyocc run FILE`) and an interactive shell
(`tinyocc shell`).

The `tinyocc` module is organized into the following packages:

* `occ/cell`: the cells and their reader/writer state machine.
* `occ/txn`: the transaction language, the per-attempt cache and the retrying executor.
* `occ/worker`: a bounded pool of goroutines that runs transactions.
* `occ/input`, `occ/report`: reading transaction files and printing results.
* `occ/server`, `occ/metrics`: the optional status API and Prometheus metrics.
* `config`, `log`: configuration and logging shared by the above.
* `cmd/tinyocc`: the command line tool.
*/
