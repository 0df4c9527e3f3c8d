// Command fencevirt is the fence agent a cluster manager runs to fence a
// virtual machine. Options come from flags or, when none are given, as
// key=value lines on stdin.
//
// Exit status is 0 on success, 1 on failure, 2 when status finds the
// machine off and 3 when the daemon denies the request.
package main
