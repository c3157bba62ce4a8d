/*

Process of compilation

Canonical Program Text ->
	canon.Read ->
Canonical Program (canon) ->
	front.Lower (decision trees for match) ->
Intermediate Representation (ir) ->
	classify, borrow.Infer (whole package) ->
	per function, in parallel:
		rc.Insert (liveness) ->
		reuse.Annotate ->
		reuse.Expand ->
		rc.Eliminate ->
Annotated IR ->
	emit (not here) or vm.Machine (simulation)

*/
package compiler
