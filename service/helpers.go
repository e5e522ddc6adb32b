package service

// maxPageSize caps any requested page size.
const maxPageSize = 500
