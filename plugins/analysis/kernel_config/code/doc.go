// Package kernelconfig is the kernel_config analysis plugin. It recognizes
// Linux kernel .config files, also when compressed with gzip, bzip2 or xz or
// embedded in a kernel image built with CONFIG_IKCONFIG.
package kernelconfig
