/*

Process of lowering

IR Text ->
	parse ->
Host IR with amdgpu ops (ir) ->
	pass: rewrite driver over amdgpu patterns, gated by chipset ->
Host IR with rocdl and llvm ops (ir) ->
	format ->
IR Text

Each function is converted in a transaction:
either every illegal op is rewritten or the function is left as it was.

*/
package compiler
