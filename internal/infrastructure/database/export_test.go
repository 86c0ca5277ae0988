package database

var AdminDSN = adminDSN
